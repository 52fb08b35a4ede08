// rcscore запускает сигнальное ядро RCS против реального P-CSCF:
// регистрация, обмен возможностями, MESSAGE и прием входящих сессий.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
