// Command concurseiro は concurso 対策アプリのバックエンド。
//
// サブコマンド: serve（既定）, worker, migrate, healthcheck, sync
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/concurseiro/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "concurseiro: %v\n", err)
		os.Exit(1)
	}
}
