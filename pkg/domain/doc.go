/*
Package domain contains the core domain models and business logic for the Weft engine.

It defines the task hierarchy of a status document and the operations that mutate it.
This package is kept pure and free of external dependencies like I/O or persistence,
following Hexagonal Architecture principles.

# Key Entities

  - Task: A single checklist entry (name, status, optional sub-document ref, children).
  - StatusTree: The parsed document — ordered headers plus a forest of root tasks.
  - Status: The task lifecycle markers (Pending, Active, Done, Skipped).

All structural mutations go through the StatusTree CRUD methods, which enforce the
cross-node invariants (single focus, hierarchy consistency, sibling uniqueness) and
invalidate virtual IDs until the next reindex.
*/
package domain
