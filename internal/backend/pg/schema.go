package pg

// Schema bootstraps the two collection tables. Voter and like membership is
// stored as jsonb because rows travel whole; the backend never patches the
// sets server side.
const Schema = `
CREATE TABLE IF NOT EXISTS ideas (
        id          TEXT PRIMARY KEY,
        title       TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        author_id   TEXT NOT NULL,
        vote_count  INTEGER NOT NULL DEFAULT 0,
        voters      JSONB NOT NULL DEFAULT '[]'::jsonb,
        created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS comments (
        id         TEXT PRIMARY KEY,
        idea_id    TEXT NOT NULL REFERENCES ideas(id) ON DELETE CASCADE,
        body       TEXT NOT NULL,
        author_id  TEXT NOT NULL,
        like_count INTEGER NOT NULL DEFAULT 0,
        liked_by   JSONB NOT NULL DEFAULT '[]'::jsonb,
        created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS comments_idea_id_idx ON comments (idea_id, created_at);
CREATE INDEX IF NOT EXISTS ideas_created_at_idx ON ideas (created_at DESC);
`
