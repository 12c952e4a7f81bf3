package store

import (
	memdb "github.com/hashicorp/go-memdb"
)

const (
	tableTemplates   = "templates"
	tableRegions     = "regions"
	tableFindings    = "findings"
	tableProfiles    = "profiles"
	tableGenerations = "generations"
)

// Non-unique indexes key by index value plus row id, so iteration within one
// exam type follows insertion order. The formatter depends on that.
func databaseSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableTemplates: {
				Name: tableTemplates,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "ID"},
					},
					"exam_type": {
						Name:         "exam_type",
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "ExamType", Lowercase: true},
					},
					"owner": {
						Name:         "owner",
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "OwnerUserID"},
					},
				},
			},
			tableRegions: {
				Name: tableRegions,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "ID"},
					},
					"template_id": {
						Name:    "template_id",
						Indexer: &memdb.UintFieldIndex{Field: "TemplateID"},
					},
				},
			},
			tableFindings: {
				Name: tableFindings,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "ID"},
					},
					"template_id": {
						Name:    "template_id",
						Indexer: &memdb.UintFieldIndex{Field: "TemplateID"},
					},
				},
			},
			tableProfiles: {
				Name: tableProfiles,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "UserID"},
					},
				},
			},
			tableGenerations: {
				Name: tableGenerations,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "ID"},
					},
					"user": {
						Name:    "user",
						Indexer: &memdb.StringFieldIndex{Field: "UserID"},
					},
				},
			},
		},
	}
}
