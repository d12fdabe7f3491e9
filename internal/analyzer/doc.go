// Package analyzer превращает содержимое PR в отчёт ревью.
//
// Провайдеры: OpenAI-совместимый Chat Completions API (OpenAI или Ollama)
// и эвристический сканер патчей, который работает без модели.
package analyzer
