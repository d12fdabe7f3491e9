// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go        — Handler с DI (сервис ревью, health checks, logger)
//   - routes.go         — chi router и регистрация маршрутов
//   - middleware.go     — middleware (recovery, logging, metrics)
//   - response.go       — унифицированные JSON-ответы и обработка ошибок
//   - dto.go            — Data Transfer Objects (request/response)
//   - review_handler.go — обработчики для /reviews
//   - task_handler.go   — обработчики для /tasks
//   - health.go         — /healthz со статусом зависимостей
package api
