// Package model contains the in-memory representation of workflow
// definitions: the node and edge graph a document instance travels through,
// plus the one-time structural validation that gates a definition before
// the engine may use it.
package model
