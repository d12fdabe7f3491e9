// Package repo — PostgreSQL реализации хранилищ (pgx).
//
//   - TaskRepo — registry.Registry, Update через SELECT ... FOR UPDATE
//   - CacheRepo — cache.Cache, INSERT ... ON CONFLICT DO UPDATE
//   - InflightRepo — orchestrator.InflightStore, lease с истечением
//
// Схема лежит в schema.sql и применяется EnsureSchema при старте.
// Время истечения считается по инжектируемым часам, как и в in-memory
// реализациях.
package repo
