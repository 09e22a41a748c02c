// atlas-loader 輸出 gorm 模型對應的 postgres schema，給 atlas 產生 migration
//
//	data "external_schema" "gorm" {
//	  program = ["go", "run", "./tools/atlas-loader"]
//	}
package main

import (
	"fmt"
	"io"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"

	"cipherbid/models"
)

func main() {
	stmts, err := gormschema.New("postgres").Load(models.All()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}
	io.WriteString(os.Stdout, stmts)
}
