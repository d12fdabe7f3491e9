// Package domain содержит сущности анализа PR.
//
// Основные типы:
//   - Task — отслеживаемая задача анализа с жизненным циклом PENDING → RUNNING → SUCCEEDED/FAILED
//   - TaskError — структурированная причина неудачи (kind + code + retryable)
//   - Report, Issue — результат анализа
//   - RepoRef, PRRequest, PRContent, Job — входные данные и единица работы backend'а
//
// Пакет не зависит от инфраструктуры: хранилища, очереди и внешние API
// живут в своих пакетах и работают с этими типами.
package domain
