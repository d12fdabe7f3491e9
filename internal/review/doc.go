// Package review — фасад ядра: то, что видят HTTP API и CLI.
//
// Service принимает запрос на анализ PR, вычисляет fingerprint текущего
// состояния PR (head SHA или хэш diff) и передаёт работу диспетчеру.
// Ошибки, случившиеся до вычисления fingerprint'а (PR не найден, нет
// доступа), тоже становятся задачами: клиент узнаёт о них через статус.
package review
