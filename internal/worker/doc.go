// Package worker реализует Execution Backend.
//
// Компоненты:
//   - Executor — fetch PR → анализ, каждая стадия с таймаутом и retry
//   - Runner   — жизненный цикл задачи: PENDING → RUNNING → SUCCEEDED/FAILED,
//     архив отчёта, запись в кэш, уведомление Notifier'а
//   - Pool     — локальный backend: неограниченная FIFO-очередь и N горутин
//   - Remote   — распределённый backend: публикует task.ready в RabbitMQ
//   - Worker   — процесс prreview-worker: consumer tasks.ready, poll fallback,
//     отмена по task.cancel, публикация task.completed
//
// Runner пишет отчёт в кэш, только если head PR не сдвинулся с момента
// вычисления fingerprint'а; иначе отчёт отдаётся задаче, но не кэшируется.
package worker
