package database

import (
	"regexp"
	"sync"

	"basaltdb/pkg/btree"
	"basaltdb/pkg/config"
	"basaltdb/pkg/pager"

	"github.com/pkg/errors"
)

// IndexInfo ties a B+Tree index to the table column it is keyed on.
type IndexInfo struct {
	Name      string
	KeyColumn int64
	Index     *btree.BTreeIndex
}

// Database is the catalog: it owns the pager and maps names to heap tables
// and their indexes. All tables and indexes share one backing file; index
// roots are recorded in the file's header page.
type Database struct {
	pgr         *pager.Pager
	tables      map[string]*Table
	tablesByID  map[int64]*Table
	indexes     map[string][]*IndexInfo // keyed by table name
	nextTableID int64
	mtx         sync.RWMutex
}

var alphanumeric = regexp.MustCompile(`\W`)

// Open opens (or creates) a database backed by the given file.
func Open(dbFile string) (*Database, error) {
	pgr, err := pager.New(dbFile)
	if err != nil {
		return nil, err
	}
	// Reserve page 0 for the index header page so no heap page can claim it.
	if pgr.GetNumPages() == 0 {
		page, err := pgr.GetNewPage()
		if err != nil {
			pgr.Close()
			return nil, err
		}
		pgr.PutPage(page)
	}
	return &Database{
		pgr:        pgr,
		tables:     make(map[string]*Table),
		tablesByID: make(map[int64]*Table),
		indexes:    make(map[string][]*IndexInfo),
	}, nil
}

// GetPager returns the pager every table and index in this database shares.
func (db *Database) GetPager() *pager.Pager {
	return db.pgr
}

// Close flushes all pages and closes the backing file.
func (db *Database) Close() error {
	return db.pgr.Close()
}

// CreateTable registers a new heap table under the given name.
func (db *Database) CreateTable(name string, schema Schema) (*Table, error) {
	if alphanumeric.MatchString(name) {
		return nil, errors.New("table name must be alphanumeric")
	}
	if schema.NumColumns() == 0 {
		return nil, errors.New("table must have at least one column")
	}
	db.mtx.Lock()
	defer db.mtx.Unlock()
	if _, found := db.tables[name]; found {
		return nil, errors.Errorf("table %s already exists", name)
	}
	db.nextTableID++
	table := newTable(name, db.nextTableID, schema, db.pgr)
	db.tables[name] = table
	db.tablesByID[table.GetID()] = table
	return table, nil
}

// GetTable looks a table up by name.
func (db *Database) GetTable(name string) (*Table, error) {
	db.mtx.RLock()
	defer db.mtx.RUnlock()
	table, found := db.tables[name]
	if !found {
		return nil, errors.Errorf("no table named %s", name)
	}
	return table, nil
}

// GetTableByID looks a table up by its id.
func (db *Database) GetTableByID(id int64) (*Table, error) {
	db.mtx.RLock()
	defer db.mtx.RUnlock()
	table, found := db.tablesByID[id]
	if !found {
		return nil, errors.Errorf("no table with id %d", id)
	}
	return table, nil
}

// CreateIndex builds a B+Tree index over one column of a table. Existing
// tuples are backfilled into the new index.
func (db *Database) CreateIndex(tableName string, indexName string, keyColumn int64) (*IndexInfo, error) {
	return db.CreateIndexWithFanOut(tableName, indexName, keyColumn, config.DefaultLeafMaxSize, config.DefaultInternalMaxSize)
}

// CreateIndexWithFanOut is CreateIndex with explicit B+Tree fan-outs.
func (db *Database) CreateIndexWithFanOut(tableName string, indexName string, keyColumn int64, leafMaxSize int64, internalMaxSize int64) (*IndexInfo, error) {
	table, err := db.GetTable(tableName)
	if err != nil {
		return nil, err
	}
	if keyColumn < 0 || keyColumn >= table.GetSchema().NumColumns() {
		return nil, errors.Errorf("table %s has no column %d", tableName, keyColumn)
	}
	db.mtx.Lock()
	defer db.mtx.Unlock()
	for _, info := range db.indexes[tableName] {
		if info.Name == indexName {
			return nil, errors.Errorf("index %s already exists", indexName)
		}
	}
	index, err := btree.OpenIndex(db.pgr, indexName, leafMaxSize, internalMaxSize)
	if err != nil {
		return nil, err
	}
	info := &IndexInfo{Name: indexName, KeyColumn: keyColumn, Index: index}
	// Backfill from the heap.
	it := table.NewIterator()
	for {
		t, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		key := t.Values[keyColumn]
		if key.Null {
			continue
		}
		if err := index.Insert(key.Int, t.RID); err != nil {
			return nil, errors.Wrapf(err, "backfill index %s", indexName)
		}
	}
	db.indexes[tableName] = append(db.indexes[tableName], info)
	return info, nil
}

// GetIndexes returns every index on the named table.
func (db *Database) GetIndexes(tableName string) []*IndexInfo {
	db.mtx.RLock()
	defer db.mtx.RUnlock()
	return db.indexes[tableName]
}

// GetIndex looks an index up by table and index name.
func (db *Database) GetIndex(tableName string, indexName string) (*IndexInfo, error) {
	db.mtx.RLock()
	defer db.mtx.RUnlock()
	for _, info := range db.indexes[tableName] {
		if info.Name == indexName {
			return info, nil
		}
	}
	return nil, errors.Errorf("no index named %s on table %s", indexName, tableName)
}
