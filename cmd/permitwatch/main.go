// Package main is the permitwatch executable.
//
// Configure it with a file passed via --config or with PERMITWATCH_* environment
// variables, e.g. PERMITWATCH_DB_DSN, PERMITWATCH_REDIS_ADDR and the VAPID keys
// printed by "permitwatch vapid-keys". "permitwatch serve" runs the scheduler and
// the HTTP API; "permitwatch run" performs one check and exits.
package main

import "github.com/JakeFAU/permitwatch/cmd"

func main() {
	cmd.Execute()
}
