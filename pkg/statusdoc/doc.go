/*
Package statusdoc implements the wire format of the status document: a strict
parser and serializer for the indented markdown checklist.

The grammar is deliberately narrow. Indentation is exactly four spaces per
level, markers come from a fixed set, and anything that looks like a task but
is not well-formed is a hard error — a hand-edited document either parses
cleanly or the engine refuses to run. Task names are opaque bytes: whatever
the user wrote round-trips unmodified through parse and serialize.

HTML comments on lines of their own are discarded on read and never emitted,
so they do not round-trip; a comment inside a task line is part of that
task's name and round-trips with it. Everything else obeys the round-trip law: Parse(Serialize(t))
yields a tree equal to t for any tree passing the domain invariants.
*/
package statusdoc
