package rbtree

import "errors"

// ErrDuplicate is returned by InsertUnique when a node with the same key is
// already present in the tree.
var ErrDuplicate = errors.New("rbtree: duplicate key")
