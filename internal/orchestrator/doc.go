// Package orchestrator — Single-Flight Dispatcher.
//
// Dispatcher отвечает за:
//   - Короткое замыкание через кэш (задача рождается SUCCEEDED)
//   - Дедупликацию по fingerprint: не более одного выполнения одновременно
//   - Создание задачи в реестре и передачу её Execution Backend'у
//   - Снятие in-flight marker'а при settlement (успех, ошибка, таймаут, отмена)
//   - Отмену задач (PENDING — сразу, RUNNING — best-effort)
//   - Восстановление flights после рестарта (Restore)
//
// # Single-flight
//
// Дедупликация работает на двух уровнях:
//   - локальная карта flights (fingerprint → задача) под keyed lock
//   - InflightStore — marker с lease в общем хранилище, чтобы несколько
//     процессов API не запускали одно и то же выполнение
//
// Блокировка держится только на время бухгалтерии (кэш, marker, реестр);
// сетевые вызовы и анализ выполняются backend'ом вне блокировки.
//
// # Флаги Submit
//
//	SubmitOptions{ReadCache: true,  Dedup: true}  — обычный запрос
//	SubmitOptions{ReadCache: false, Dedup: true}  — force: кэш не читается, dedup сохраняется
//	SubmitOptions{ReadCache: true,  Dedup: false} — только внутреннее использование и тесты
//	SubmitOptions{ReadCache: false, Dedup: false} — только внутреннее использование и тесты
//
// # Ожидание
//
// Handle.Wait ждёт settlement локального flight'а или опрашивает реестр,
// если выполнением владеет другой процесс.
package orchestrator
