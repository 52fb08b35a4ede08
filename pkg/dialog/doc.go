// Package dialog хранит состояние SIP диалога (DialogPath), разбирает
// Session-Expires и Min-SE (RFC 4028) и задает таксономию ошибок ядра.
//
// Path потокобезопасен: CSeq исходящих запросов строго возрастает,
// маршрут строится из Record-Route, а причина завершения попадает в
// заголовок Reason при BYE. Идентификаторы (Call-ID, теги, branch)
// генерируются через google/uuid.
package dialog
