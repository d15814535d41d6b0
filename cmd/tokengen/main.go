// Package main выпускает bearer-токен оператора для операторских маршрутов treeledger.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/treeledger/internal/auth"
)

type options struct {
	Secret string `env:"AUTH_SECRET" envDefault:"treeledger-secret"`
}

func main() {
	var opts options
	if err := env.Parse(&opts); err != nil {
		fmt.Fprintf(os.Stderr, "parse env: %v\n", err)
		os.Exit(1)
	}

	subject := flag.String("subject", "operator", "operator subject")
	secret := flag.String("s", opts.Secret, "token signing secret")
	ttl := flag.Duration("ttl", 24*time.Hour, "token validity")
	flag.Parse()

	token, err := auth.GenerateToken(*subject, auth.RoleOperator, []byte(*secret), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
