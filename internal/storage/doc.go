// Package storage архивирует отчёты ревью в объектное хранилище (MinIO / S3).
package storage
