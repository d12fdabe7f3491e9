// Package config описывает конфигурацию prreview-api, prreview-worker и её
// источники: YAML файл, .env и переменные окружения.
package config
