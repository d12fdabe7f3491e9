// Package scheduler — janitor: периодическая уборка по cron-расписанию.
//
// Janitor удаляет истёкшие задачи, записи кэша и in-flight marker'ы,
// переводит зависшие RUNNING задачи в FAILED(TIMEOUT), прерывает их выполнение
// и снимает их flights.
//
// Структура:
//   - scheduler.go — Janitor (Start, Stop, Tick)
//   - cron.go      — парсинг cron-выражений и адаптер логов robfig/cron
//
// Использование:
//
//	janitor := scheduler.New(scheduler.Config{
//	    Registry: taskRepo,
//	    Cache:    cacheRepo,
//	    Markers:  inflightRepo, // опционально
//	    Settler:  dispatcher,
//	    Locker:   repo.NewAdvisoryLock(pool, scheduler.LockKey),
//	    Schedule: "@every 5m",
//	    Logger:   logger,
//	})
//	if err := janitor.Start(ctx); err != nil { ... }
//	defer janitor.Stop()
//
// Leader Election:
//
// При нескольких процессах API тик выполняет только владелец Locker
// (pg_try_advisory_lock на выделенном соединении).
package scheduler
