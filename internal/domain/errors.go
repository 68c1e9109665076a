package domain

import "errors"

// ErrCreatorNotFound возвращается, если креатор не найден в справочнике.
var ErrCreatorNotFound = errors.New("креатор не найден")

// ErrDuplicateActiveRequest возвращается при попытке поставить заявку на
// пару (креатор, период), по которой уже есть активная заявка. Это ожидаемый
// ответ для вызывающего, не аварийный путь.
var ErrDuplicateActiveRequest = errors.New("активная заявка на период уже существует")

// ErrNoPendingRequests возвращается, когда очередь заявок пуста.
var ErrNoPendingRequests = errors.New("нет ожидающих заявок")

// ErrRequestNotFound возвращается, если заявка не найдена.
var ErrRequestNotFound = errors.New("заявка не найдена")

// ErrPredictionNotFound возвращается, если прогноз не найден.
var ErrPredictionNotFound = errors.New("прогноз не найден")

// ErrNoSignalData возвращается репозиторием сигналов при отсутствии снимков.
// Калькулятор объёмов обрабатывает его откатом на базовые значения корзины.
var ErrNoSignalData = errors.New("нет данных сигналов")

// ErrNoMultiplier возвращается при отсутствии множителя дня недели.
var ErrNoMultiplier = errors.New("нет множителя дня недели")
