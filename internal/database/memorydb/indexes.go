package memorydb

import "github.com/hashicorp/go-memdb"

const tblDocuments = "documents"

// All collections share one table; Key is "{collection}/{id}" so the id
// index stays unique across collections while the collection index groups
// records for scans.
var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblDocuments: {
			Name: tblDocuments,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
				"collection": {
					Name:    "collection",
					Indexer: &memdb.StringFieldIndex{Field: "Collection"},
				},
			},
		},
	},
}
