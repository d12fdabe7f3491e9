// Package batch — Batch Orchestrator: анализ списка PR одним вызовом.
//
// Каждый элемент проходит через тот же Single-Flight Dispatcher, что и
// одиночный запрос, поэтому дубликаты внутри batch (и между batch'ами)
// выполняются один раз. Результаты возвращаются в порядке входа.
//
// Ошибка одного элемента не влияет на остальные: RunBatch падает целиком
// только на некорректном входе (пустой список, превышение лимита,
// незаполненные поля).
package batch
