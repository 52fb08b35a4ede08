package dialog

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RFC 3261 magic cookie для branch параметра Via
const branchMagicCookie = "z9hG4bK"

// GenerateCallID создает уникальный Call-ID вида <uuid>@<host>
func GenerateCallID(host string) string {
	id := uuid.NewString()
	if host == "" {
		return id
	}
	return id + "@" + host
}

// GenerateTag создает тег для From/To
func GenerateTag() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:16]
}

// GenerateBranch создает branch для нового Via
func GenerateBranch() string {
	return branchMagicCookie + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateListID идентификатор списка ресурсов для REFER нескольким
// участникам: Id_<millis>
func GenerateListID(now time.Time) string {
	return "Id_" + strconv.FormatInt(now.UnixMilli(), 10)
}
