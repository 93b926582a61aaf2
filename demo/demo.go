package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sqlweave/sqlweave"
)

func example() error {
	sqldb, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return err
	}
	db := sqlweave.NewDB(sqldb)

	createSales := sqlweave.MustDefine(`
		CREATE TABLE sales (
			region text,
			amount integer,
			year integer
		);`, nil, nil)
	insertSale := sqlweave.MustDefine(`
		INSERT INTO sales (region, amount, year)
		VALUES (?, ?, ?);`, nil, nil)

	// The report is assembled from small relation-producing templates. The
	// yearly relation is shared: both the totals and the best-region
	// relations read from it.
	yearly := sqlweave.MustDefine(`
		SELECT region, sum(amount) AS total
		FROM sales
		WHERE year = {year}
		GROUP BY region`, nil, nil)
	totals := sqlweave.MustDefine(`
		SELECT sum(total) AS grand_total FROM {y}`,
		sqlweave.Deps{"y": yearly}, nil)
	best := sqlweave.MustDefine(`
		SELECT region, total FROM {y} ORDER BY total DESC LIMIT 1`,
		sqlweave.Deps{"y": yearly}, nil)
	report := sqlweave.MustDefine(`
		SELECT b.region, b.total, g.grand_total
		FROM {b} JOIN {g}`,
		sqlweave.Deps{"b": best, "g": totals}, nil)

	createStmt, err := createSales.Subqueries(nil)
	if err != nil {
		return err
	}
	err = db.Query(context.Background(), createStmt).Run()
	if err != nil {
		return err
	}

	insertStmt, err := insertSale.Subqueries(nil)
	if err != nil {
		return err
	}
	type sale struct {
		region string
		amount int
		year   int
	}
	sales := []sale{
		{"north", 1200, 2023},
		{"north", 700, 2024},
		{"south", 950, 2024},
		{"south", 300, 2023},
		{"west", 1500, 2024},
	}
	for _, s := range sales {
		err := db.Query(context.Background(), insertStmt, s.region, s.amount, s.year).Run()
		if err != nil {
			return err
		}
	}

	// Render the report twice: once with every dependency inlined and once
	// with the shared yearly relation hoisted into a single CTE.
	year := sqlweave.M{"year": sqlweave.Raw("2024")}

	nested, err := report.Subqueries(year)
	if err != nil {
		return err
	}
	fmt.Println("nested subqueries:")
	fmt.Println(nested.SQL())

	hoisted, err := report.CTEs(year)
	if err != nil {
		return err
	}
	fmt.Println("hoisted CTEs:")
	fmt.Println(hoisted.SQL())

	for _, stmt := range []*sqlweave.Statement{nested, hoisted} {
		var region string
		var total, grand int64
		err = db.Query(context.Background(), stmt).Get(&region, &total, &grand)
		if err != nil {
			return err
		}
		fmt.Printf("best region in 2024: %s (%d of %d)\n", region, total, grand)
	}
	return nil
}

func main() {
	err := example()
	if err != nil {
		panic(err)
	}
}
