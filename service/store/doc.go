// Package store defines the approval store contract shared by the memory,
// filesystem, SQL and Redis adapters.
package store
