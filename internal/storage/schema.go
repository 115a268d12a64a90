package storage

const schemaSQL = `
-- One row per harvest run
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY NOT NULL,
    generated_at DATETIME NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    categories INTEGER NOT NULL DEFAULT 0,
    pages INTEGER NOT NULL DEFAULT 0,
    products INTEGER NOT NULL DEFAULT 0,
    requests INTEGER NOT NULL DEFAULT 0,
    rate_limited INTEGER NOT NULL DEFAULT 0,
    transient_errors INTEGER NOT NULL DEFAULT 0,
    permanent_errors INTEGER NOT NULL DEFAULT 0,
    abandoned INTEGER NOT NULL DEFAULT 0,
    rotations INTEGER NOT NULL DEFAULT 0
);

-- Final state of each category in a run
CREATE TABLE IF NOT EXISTS categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    seed_url TEXT NOT NULL,
    pages_crawled INTEGER NOT NULL DEFAULT 0,
    final_reason TEXT NOT NULL CHECK (final_reason IN (
        'budget_exhausted', 'no_next_page', 'page_loop', 'abandoned',
        'permanent_error', 'request_cap', 'stopped')),
    finalized_at DATETIME,
    attempts INTEGER NOT NULL DEFAULT 0,
    retries INTEGER NOT NULL DEFAULT 0,
    abandoned INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    UNIQUE(run_id, name)
);

CREATE INDEX IF NOT EXISTS idx_categories_run ON categories(run_id);

-- Products in discovery order
CREATE TABLE IF NOT EXISTS products (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    category_id INTEGER NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    title TEXT NOT NULL,
    link TEXT,
    price TEXT,
    rating REAL,
    item_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id);
CREATE INDEX IF NOT EXISTS idx_products_item_id ON products(item_id) WHERE item_id IS NOT NULL;

-- Ranked phrase frequencies per category and n-gram size
CREATE TABLE IF NOT EXISTS phrases (
    category_id INTEGER NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
    n INTEGER NOT NULL CHECK (n BETWEEN 1 AND 3),
    rank INTEGER NOT NULL,
    phrase TEXT NOT NULL,
    count INTEGER NOT NULL,
    PRIMARY KEY (category_id, n, phrase)
);

CREATE INDEX IF NOT EXISTS idx_phrases_rank ON phrases(category_id, n, rank);

-- View joining phrases to their run and category for analysis
CREATE VIEW IF NOT EXISTS run_phrases AS
SELECT
    c.run_id, c.name AS category, p.n, p.rank, p.phrase, p.count
FROM phrases p
JOIN categories c ON c.id = p.category_id;

-- Key-value metadata
CREATE TABLE IF NOT EXISTS crawl_meta (
    key TEXT PRIMARY KEY NOT NULL,
    value TEXT NOT NULL
);
`
