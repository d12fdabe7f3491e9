// Package fingerprint вычисляет детерминированный идентификатор состояния PR.
//
// Fingerprint = SHA-256 (hex, 64 символа) от length-prefixed кодирования
// (каноническое имя репозитория, номер PR, content marker).
//
// Content marker:
//   - "sha:<head commit>" — предпочтительный вариант, требует только лёгкого запроса head SHA
//   - "diff:<sha256 diff>" — fallback, требует полного fetch diff до проверки кэша
//
// Length-prefix исключает коллизии вида ("a/b", 12, "x") vs ("a/b1", 2, "x").
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shaiso/prreview/internal/domain"
)

// Префиксы content marker.
const (
	headPrefix = "sha:"
	diffPrefix = "diff:"
)

// Mode — стратегия выбора content marker.
type Mode string

const (
	// ModeHeadSHA — marker из head commit. Дешёвая проверка кэша;
	// force-push с тем же SHA невозможен, поэтому staleness отсутствует.
	ModeHeadSHA Mode = "head_sha"

	// ModeDiff — marker из хэша diff. Дороже (полный fetch до проверки кэша),
	// но не зависит от наличия head SHA.
	ModeDiff Mode = "diff"
)

// IsValid проверяет, что режим известен.
func (m Mode) IsValid() bool {
	return m == ModeHeadSHA || m == ModeDiff
}

var hexRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Derive вычисляет Fingerprint.
//
// repo — каноническое имя репозитория (RepoRef.FullName()).
// Возвращает domain.ErrInvalidInput для пустого repo, неположительного номера или пустого marker.
func Derive(repo string, number int, marker string) (domain.Fingerprint, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return "", fmt.Errorf("%w: empty repository identifier", domain.ErrInvalidInput)
	}
	if number <= 0 {
		return "", fmt.Errorf("%w: pr number must be positive, got %d", domain.ErrInvalidInput, number)
	}
	if marker == "" {
		return "", fmt.Errorf("%w: empty content marker", domain.ErrInvalidInput)
	}

	h := sha256.New()
	writeField(h, []byte(repo))
	writeField(h, []byte(strconv.Itoa(number)))
	writeField(h, []byte(marker))

	return domain.Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// DeriveFor — обёртка над Derive для RepoRef.
func DeriveFor(ref domain.RepoRef, number int, marker string) (domain.Fingerprint, error) {
	return Derive(ref.FullName(), number, marker)
}

// HeadMarker строит marker из head commit SHA.
func HeadMarker(sha string) string {
	return headPrefix + strings.ToLower(strings.TrimSpace(sha))
}

// DiffMarker строит marker из текста diff.
func DiffMarker(diff string) string {
	sum := sha256.Sum256([]byte(diff))
	return diffPrefix + hex.EncodeToString(sum[:])
}

// MarkerFor строит marker для полученного содержимого в указанном режиме.
// Пустой head SHA в режиме ModeHeadSHA даёт diff marker.
func MarkerFor(mode Mode, content *domain.PRContent) string {
	if mode == ModeHeadSHA && strings.TrimSpace(content.HeadSHA) != "" {
		return HeadMarker(content.HeadSHA)
	}
	return DiffMarker(content.Diff)
}

// Matches проверяет, что полученное содержимое соответствует marker.
//
// Используется перед записью в кэш: если PR изменился между вычислением
// fingerprint и fetch, отчёт не принадлежит этому fingerprint.
func Matches(marker string, content *domain.PRContent) bool {
	switch {
	case strings.HasPrefix(marker, headPrefix):
		return marker == HeadMarker(content.HeadSHA)
	case strings.HasPrefix(marker, diffPrefix):
		return marker == DiffMarker(content.Diff)
	default:
		return false
	}
}

// Parse проверяет строковое представление fingerprint.
func Parse(s string) (domain.Fingerprint, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if !hexRe.MatchString(v) {
		return "", fmt.Errorf("%w: malformed fingerprint %q", domain.ErrInvalidInput, s)
	}
	return domain.Fingerprint(v), nil
}

// writeField пишет поле как uint64 длины (big-endian) + байты.
func writeField(h interface{ Write([]byte) (int, error) }, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}
