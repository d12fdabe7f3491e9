// Package cli реализует инструмент командной строки prreview.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с prreview API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для prreview API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ErrorResponse) и обработку ошибок.
// Ошибки API возвращаются как *APIError (HTTP статус + код).
//
//	client := cli.NewClient("http://localhost:8080")
//	taskID, err := client.SubmitReview(ctx, cli.SubmitReviewRequest{...})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: prreview task result ID --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - review: submit, batch
//   - task: show, result, cancel
//
// Каждая группа создаётся через фабричную функцию (NewReviewCmd, NewTaskCmd),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
