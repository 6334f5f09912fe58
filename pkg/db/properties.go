package db

// Property names understood by Engine.Property. Engines answer the ones that
// make sense for their storage layout.
const (
	PropVersion       = "db.version"
	PropMapSize       = "db.mapsize"
	PropMaxReaders    = "db.maxreaders"
	PropNumReaders    = "db.numreaders"
	PropLastTxnID     = "db.last_txnid"
	PropEntries       = "db.entries"
	PropPageSize      = "db.psize"
	PropDepth         = "db.depth"
	PropBranchPages   = "db.branch_pages"
	PropLeafPages     = "db.leaf_pages"
	PropOverflowPages = "db.overflow_pages"
	PropLastPageNo    = "db.last_pgno"
)
