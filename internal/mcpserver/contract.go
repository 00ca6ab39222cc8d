package mcpserver

// IndexFormatContract describes the rows the indexer writes, for LLM
// consumers of the index_rows tool.
const IndexFormatContract = `# Search Index Format

Rows of the ` + "`" + `search_index` + "`" + ` table are keyed by note. A note has at most one
row per source.

## Columns

| column  | meaning                                             |
|---------|-----------------------------------------------------|
| lid     | local id of the note the row belongs to             |
| source  | ` + "`" + `text` + "`" + ` or ` + "`" + `recognition` + "`" + `                              |
| weight  | 0..100, how much the row counts in ranking          |
| content | plain text                                          |

## Sources

- **text** is the note body with markup, encrypted sections and the outer
  container removed, followed by the title. Weight 100.
- **recognition** comes from the note's resources: a recognized word from
  image recognition data (weighted by recognizer confidence), or the full
  text of an attached PDF or office document (weight 100). Writing a
  recognition row replaces the previous one for the same note.

## Lifecycle

- Notes and resources carry an ` + "`" + `index_needed` + "`" + ` flag. The indexer only
  visits flagged items and clears the flag once their row is written.
- A note whose body yields no text loses its text row.
- Items that fail for a transient reason (missing payload, converter not
  ready, interrupted tick) keep their flag and are retried on a later tick.
- ` + "`" + `reindex_all` + "`" + ` flags every note and resource again.
`
