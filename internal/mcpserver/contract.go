package mcpserver

// LayoutContract describes how artifacts are laid out on disk and how the
// sync endpoint turns them into records.
const LayoutContract = `# Blackhole Artifact Layout

The gateway reads a single read-only artifact tree. Nothing in it is written
by the gateway.

## Directories

One directory per category, named after the category plus "s":

| Category    | Directory      | Kind     |
|-------------|----------------|----------|
| controller  | controllers/   | script   |
| service     | services/      | script   |
| view        | views/         | document |
| style       | styles/        | document |
| model       | models/        | document |
| printform   | printforms/    | document |
| translation | translations/  | document |
| file        | files/         | document |

A missing directory is an empty category, not an error.

## File names

` + "`" + `<logicalName>[-<hexHash>]<extension>` + "`" + `, for example ` + "`" + `widget-1a2b3c.json` + "`" + `.

- The hash is the last hyphen followed by lowercase hex digits, right before
  the extension. It is optional.
- The logical name is the file name with the hash removed, cut at the first dot.

## Records

- **Scripts** are transpiled and returned as
  ` + "`" + `{"name": <logicalName>, "code": <js>, "uptime": <unix seconds>, "id": <hash>}` + "`" + `.
  ` + "`" + `id` + "`" + ` is omitted when the file name has no hash. A script that fails to
  transpile fails the whole sync.
- **Documents** are JSON objects returned as-is with an added ` + "`" + `uptime` + "`" + ` field.
  Arrays pass through unchanged. Anything that does not parse is skipped.

## Example

` + "```" + `
project/
  models/
    thing-deadbeef.json      {"a":1}
  controllers/
    main-0f12.js
` + "```" + `

` + "`" + `sync` + "`" + ` with interests ` + "`" + `["model"]` + "`" + ` returns
` + "`" + `{"code":200,"data":[{"model":[{"a":1,"uptime":T}],"serverUptime":T}]}` + "`" + `.
`
