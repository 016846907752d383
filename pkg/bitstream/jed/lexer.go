package jed

import "github.com/alecthomas/participle/v2/lexer"

// jedLexer splits a JEDEC fuse file into STX/ETX control bytes and
// star-terminated record bodies. Each record's own directive letter and
// payload are decoded by the grammar's post-parse pass (parser.go), since
// JED's field shapes vary too much (fixed-width hex, free-form fuse runs
// spanning many physical lines, note text) for a single token grammar.
var jedLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "STX", Pattern: "\x02"},
	{Name: "ETX", Pattern: "\x03"},
	{Name: "Star", Pattern: `\*`},
	{Name: "Body", Pattern: `[^*\x02\x03]+`},
})
