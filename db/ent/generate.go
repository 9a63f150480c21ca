//go:build ignore

package main

import (
	"log"

	"entgo.io/ent/entc"
	"entgo.io/ent/entc/gen"
)

// Generates a typed client from ./db/ent/schema into gen/ent. The repository
// layer builds its SQL with entgo.io/ent/dialect/sql and does not depend on it.
func main() {
	err := entc.Generate(
		"./db/ent/schema",
		&gen.Config{
			Target:  "gen/ent",
			Package: "github.com/joseph-ayodele/esg-compliance/gen/ent",
			Features: []gen.Feature{
				gen.FeatureUpsert,
			},
		},
	)
	if err != nil {
		log.Fatal(err)
	}
}
