package sqlweave

import "sort"

func (s *Statement) CacheID() int64 {
	return s.cacheID
}

func (db *DB) CacheID() int64 {
	return db.cacheID
}

// SetDependency rewires a dependency of r in place. It exists only for
// tests: the public constructor copies its inputs and so cannot build the
// cyclic graphs that SortDependencies must reject.
func SetDependency(r *Relation, name string, dep *Relation) {
	if _, ok := r.deps[name]; !ok {
		r.depNames = append(r.depNames, name)
		sort.Strings(r.depNames)
	}
	r.deps[name] = dep
}
