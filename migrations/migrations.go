// Package migrations embeds the schema for the onboarding pipeline's
// durable execution tables so internal/db can apply them without a
// separate deployment step.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
