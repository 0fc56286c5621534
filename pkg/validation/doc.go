/*
Package validation 설정 파일 등 외부 입력값의 유효성을 검사하는 함수를 제공합니다.

  - 호스트명 (RFC 1123, IP, localhost)
  - 네트워크 포트
  - 이메일 주소 (RFC 5322 주소 형식)

모든 함수는 유효하지 않은 입력에 대해 사유를 담은 error를 반환합니다.
*/
package validation
