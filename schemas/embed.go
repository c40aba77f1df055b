// Package schemas хранит JSON-схемы контрактов конвейера
package schemas

import "embed"

//go:embed contracts
var SchemasFS embed.FS
