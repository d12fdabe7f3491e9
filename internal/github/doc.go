// Package github читает pull request'ы через GitHub REST API.
//
// Client отдаёт head commit (для fingerprint'а в режиме head_sha) и полное
// содержимое PR: метаданные, файлы с патчами и unified diff.
package github
