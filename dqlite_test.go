//go:build dqlite
// +build dqlite

package sqlweave_test

import (
	"context"
	"database/sql"

	"github.com/canonical/go-dqlite/app"
	. "gopkg.in/check.v1"

	"github.com/sqlweave/sqlweave"
)

// DqliteSuite checks that composed statements run against dqlite, the
// distributed SQLite used in production deployments, and not only against
// the in-process driver. It needs the dqlite C libraries, so it is built
// only with the dqlite tag:
//
//	go test -tags dqlite ./...
type DqliteSuite struct {
	app   *app.App
	sqldb *sql.DB
}

var _ = Suite(&DqliteSuite{})

func (s *DqliteSuite) SetUpSuite(c *C) {
	dqapp, err := app.New(c.MkDir(), app.WithAddress("127.0.0.1:9187"))
	c.Assert(err, IsNil)
	err = dqapp.Ready(context.Background())
	c.Assert(err, IsNil)
	s.app = dqapp

	s.sqldb, err = dqapp.Open(context.Background(), "test")
	c.Assert(err, IsNil)
}

func (s *DqliteSuite) TearDownSuite(c *C) {
	if s.sqldb != nil {
		c.Assert(s.sqldb.Close(), IsNil)
	}
	if s.app != nil {
		c.Assert(s.app.Close(), IsNil)
	}
}

func (s *DqliteSuite) TestStrategiesAgreeOnDqlite(c *C) {
	db := sqlweave.NewDB(s.sqldb)

	hund := sqlweave.MustDefine("SELECT 1 AS a, 100 AS b UNION ALL SELECT 2, 200", nil, nil)
	thou := sqlweave.MustDefine("SELECT 1 AS a, 1000 AS b", nil, nil)
	combine := sqlweave.MustDefine(
		"SELECT h.a AS a, h.b AS hb, t.b AS tb FROM {h} LEFT JOIN {t} USING (a)",
		sqlweave.Deps{"h": hund, "t": thou}, nil)

	nested, err := combine.Subqueries(nil)
	c.Assert(err, IsNil)
	hoisted, err := combine.CTEs(nil)
	c.Assert(err, IsNil)

	for _, stmt := range []*sqlweave.Statement{nested, hoisted} {
		var a, hb int64
		var tb sql.NullInt64
		err := db.Query(context.Background(), stmt).Get(&a, &hb, &tb)
		c.Assert(err, IsNil)
		c.Assert(a, Equals, int64(1))
		c.Assert(hb, Equals, int64(100))
		c.Assert(tb.Int64, Equals, int64(1000))
	}
}

func (s *DqliteSuite) TestTableBackedGraphOnDqlite(c *C) {
	db := sqlweave.NewDB(s.sqldb)

	create := sqlweave.MustDefine("CREATE TABLE IF NOT EXISTS readings (sensor text, v integer)", nil, nil)
	stmt, err := create.Subqueries(nil)
	c.Assert(err, IsNil)
	c.Assert(db.Query(context.Background(), stmt).Run(), IsNil)

	insert := sqlweave.MustDefine("INSERT INTO readings VALUES (?, ?)", nil, nil)
	stmt, err = insert.Subqueries(nil)
	c.Assert(err, IsNil)
	for i, sensor := range []string{"a", "a", "b"} {
		c.Assert(db.Query(context.Background(), stmt, sensor, i+1).Run(), IsNil)
	}

	bySensor := sqlweave.MustDefine("SELECT sensor, sum(v) AS total FROM readings GROUP BY sensor", nil, nil)
	top := sqlweave.MustDefine("SELECT sensor, total FROM {s} ORDER BY total DESC LIMIT 1", sqlweave.Deps{"s": bySensor}, nil)

	stmt, err = top.CTEs(nil)
	c.Assert(err, IsNil)
	var sensor string
	var total int64
	c.Assert(db.Query(context.Background(), stmt).Get(&sensor, &total), IsNil)
	c.Assert(sensor, Equals, "a")
	c.Assert(total, Equals, int64(3))
}
