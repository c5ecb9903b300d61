package history

// Schema holds one row per run and one row per executed step.
// Times are unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    scenario TEXT NOT NULL,
    target TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    phase TEXT NOT NULL DEFAULT '',
    code TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    expected TEXT NOT NULL DEFAULT '',
    observed TEXT NOT NULL DEFAULT '',
    failed_step INTEGER NOT NULL DEFAULT -1,
    steps_executed INTEGER NOT NULL DEFAULT 0,
    degraded TEXT NOT NULL DEFAULT '[]',   -- JSON array of pending frame URLs
    artifacts TEXT NOT NULL DEFAULT '[]',  -- JSON array of object keys
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS steps (
    run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    idx INTEGER NOT NULL,
    action TEXT NOT NULL,
    label TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    code TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, idx)
);
`
