// Package postgres holds the relational backends: refresh sessions, account
// lockouts and the principal directory. Each satisfies the interface of the
// package it serves, so the engine treats them like any other store.
//
// The schema ships embedded and is applied with [Migrate].
package postgres
