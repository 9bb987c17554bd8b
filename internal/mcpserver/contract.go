package mcpserver

// NoteFormatContract describes how vault files map onto index rows, for
// MCP clients reading the index.
const NoteFormatContract = `# Stave Note Format

A workspace holds one or more vaults. Every top-level *.md file of a vault
is one note; its file name without .md is the note's hierarchical name
(fname). Dots separate hierarchy levels: ` + "`" + `proj.alpha.tasks` + "`" + ` is a child of
` + "`" + `proj.alpha` + "`" + `, which is a child of ` + "`" + `proj` + "`" + `.

## Frontmatter

` + "```" + `markdown
---
id: 4c1b2e             # stable id; generated when absent
title: Alpha           # defaults to the last name segment
desc: short summary
created: 1700000000000 # epoch milliseconds or RFC 3339
updated: 1700000000000
tags: [project, q3]
schema: proj:item      # module:schema of a structural schema
---
` + "```" + `

Any other key is kept as custom data.

## Hierarchy

Missing ancestors become stub notes so every name has a parent chain.
Top-level names hang off the vault's ` + "`" + `root` + "`" + ` note when the vault has one.

## Links

- ` + "`" + `[[target]]` + "`" + `, ` + "`" + `[[alias|target]]` + "`" + `, ` + "`" + `[[target#anchor]]` + "`" + ` are wiki links by fname.
- ` + "`" + `[[dendron://vault/target]]` + "`" + ` points into another vault.
- Markdown links to other notes and external URLs are recorded too.

## Structural schemas

` + "`" + `*.schema.yml` + "`" + ` files at the top of a vault declare schema modules. A note
opts into one with its ` + "`" + `schema` + "`" + ` frontmatter key.
`
