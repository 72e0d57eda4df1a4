package progress

// SchemaVersion is bumped whenever the on-disk layout changes in a way old
// binaries cannot read. Open refuses databases written by a newer version
// instead of misinterpreting them.
const SchemaVersion = 1

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;

-- One row per fingerprint. Owned by the store; workers mutate it only
-- through Claim/Advance.
CREATE TABLE IF NOT EXISTS records (
    fingerprint   TEXT PRIMARY KEY,
    file_id       TEXT NOT NULL,
    name          TEXT NOT NULL,
    path          TEXT,
    mime_type     TEXT,
    size          INTEGER DEFAULT 0,
    modified_time TEXT,
    status        TEXT NOT NULL DEFAULT 'pending',
    attempts      INTEGER NOT NULL DEFAULT 0,
    last_error    TEXT,
    ocr_text      TEXT,
    language      TEXT,
    translation   TEXT,
    metadata_yaml TEXT,
    claim_run     TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
CREATE INDEX IF NOT EXISTS idx_records_file ON records(file_id);

-- Store-level metadata, currently just the schema version.
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
