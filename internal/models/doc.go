// Package models defines the records shared by the draw engine, the ledger
// and the exports: tickets, lots and results.
//
// A ticket belongs to a person through its PersonKey. Two tickets with the
// same key belong to the same person, whatever the casing or spacing of the
// names typed at purchase time.
package models
