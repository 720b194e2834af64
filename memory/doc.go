// Package memory assembles the bounded memory context handed to providers.
//
// Long-term memory is partitioned into six dimensions (see core.Dimensions).
// ContextBuilder reads candidates per dimension through the Store interface,
// ranks them by salience then recency, and renders them in fixed priority
// order while honouring a length budget. Trimming removes the lowest-priority
// material first; core identity is never trimmed.
//
// The core only reads memory. Stores (InMemoryStore here, gormstore for SQL
// databases) are written by an external collaborator.
package memory
