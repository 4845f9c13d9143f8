// Package validate provides pure field validation for wizard input.
//
// Each Kind names a semantic field type; Validate normalizes the raw input
// (trimming, case folding) and checks its shape. Bad input never produces an
// error value: the caller always receives a Result with human-readable
// messages. Only an unknown Kind panics, since that is a programming error
// caught by registry validation at startup.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies a semantic field type.
type Kind string

const (
	// KindNombre is a person or brand name, minimum 2 characters.
	KindNombre Kind = "nombre"
	// KindTexto is free text, minimum 10 characters.
	KindTexto Kind = "texto"
	// KindTextoCorto is short free text, minimum 3 characters.
	KindTextoCorto Kind = "texto_corto"
	// KindDireccion is a postal address, minimum 5 characters.
	KindDireccion Kind = "direccion"
	// KindNIF is a Spanish NIF/NIE with checksum verification.
	KindNIF Kind = "nif"
	// KindEmail is an email address.
	KindEmail Kind = "email"
	// KindTelefono is a Spanish phone number.
	KindTelefono Kind = "telefono"
	// KindMatricula is a Spanish vehicle plate (1234ABC).
	KindMatricula Kind = "matricula"
	// KindNumeroPositivo is a strictly positive decimal number.
	KindNumeroPositivo Kind = "numero_positivo"
	// KindPorcentaje is a decimal number in [0,100].
	KindPorcentaje Kind = "porcentaje"
	// KindMetodoPago is one of the accepted payment methods.
	KindMetodoPago Kind = "metodo_pago"
	// KindIdentificador is an opaque entity identifier.
	KindIdentificador Kind = "identificador"
	// KindConsulta is a search query, minimum 2 characters.
	KindConsulta Kind = "consulta"
)

// nifLetters is the official check-letter table indexed by number mod 23.
const nifLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

var (
	nifShapeRe   = regexp.MustCompile(`^([0-9]{8}|[XYZ][0-9]{7})[A-Z]$`)
	emailRe      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	telefonoRe   = regexp.MustCompile(`^(\+34|0034|34)?[6789][0-9]{8}$`)
	matriculaRe  = regexp.MustCompile(`^[0-9]{4}[A-Z]{3}$`)
	identRe      = regexp.MustCompile(`^[0-9a-fA-F-]{8,36}$`)
	nieInitialMap = map[byte]int{'X': 0, 'Y': 1, 'Z': 2}
)

// Result is the outcome of validating one field value.
type Result struct {
	Valid      bool
	Normalized string
	Errors     []string
}

func invalid(msgs ...string) Result {
	return Result{Valid: false, Errors: msgs}
}

func valid(normalized string) Result {
	return Result{Valid: true, Normalized: normalized}
}

// KnownKind reports whether the given kind has a validator.
func KnownKind(k Kind) bool {
	switch k {
	case KindNombre, KindTexto, KindTextoCorto, KindDireccion, KindNIF, KindEmail, KindTelefono,
		KindMatricula, KindNumeroPositivo, KindPorcentaje, KindMetodoPago,
		KindIdentificador, KindConsulta:
		return true
	default:
		return false
	}
}

// Validate normalizes and checks one raw input against the given kind.
// It panics if the kind is unknown.
func Validate(k Kind, raw string) Result {
	trimmed := strings.TrimSpace(raw)
	switch k {
	case KindNombre:
		return validateMinLength(trimmed, 2, "El valor debe tener al menos 2 caracteres")
	case KindTexto:
		return validateMinLength(trimmed, 10, "La descripción debe tener al menos 10 caracteres")
	case KindTextoCorto:
		return validateMinLength(trimmed, 3, "El texto debe tener al menos 3 caracteres")
	case KindDireccion:
		return validateMinLength(trimmed, 5, "La dirección debe tener al menos 5 caracteres")
	case KindNIF:
		return validateNIF(trimmed)
	case KindEmail:
		return validateEmail(trimmed)
	case KindTelefono:
		return validateTelefono(trimmed)
	case KindMatricula:
		return validateMatricula(trimmed)
	case KindNumeroPositivo:
		return validateNumeroPositivo(trimmed)
	case KindPorcentaje:
		return validatePorcentaje(trimmed)
	case KindMetodoPago:
		return validateMetodoPago(trimmed)
	case KindIdentificador:
		return validateIdentificador(trimmed)
	case KindConsulta:
		return validateMinLength(trimmed, 2, "La búsqueda debe tener al menos 2 caracteres")
	default:
		panic(fmt.Sprintf("validate: unknown field kind %q", k))
	}
}

func validateMinLength(s string, min int, msg string) Result {
	if len([]rune(s)) < min {
		return invalid(msg)
	}
	return valid(s)
}

// validateNIF implements the official Spanish NIF/NIE check-letter algorithm.
// NIE identifiers map their leading X/Y/Z to 0/1/2 before the mod-23 lookup.
func validateNIF(s string) Result {
	nif := strings.ToUpper(s)
	if !nifShapeRe.MatchString(nif) {
		return invalid("El NIF/NIE no tiene un formato válido (ej: 12345678Z o X1234567L)")
	}

	var number int
	if nif[0] >= '0' && nif[0] <= '9' {
		number, _ = strconv.Atoi(nif[:8])
	} else {
		prefix := nieInitialMap[nif[0]]
		rest, _ := strconv.Atoi(nif[1:8])
		number = prefix*10000000 + rest
	}

	if nif[len(nif)-1] != nifLetters[number%23] {
		return invalid("La letra de control del NIF/NIE no es correcta")
	}
	return valid(nif)
}

func validateEmail(s string) Result {
	email := strings.ToLower(s)
	if !emailRe.MatchString(email) {
		return invalid("El email no es válido")
	}
	return valid(email)
}

func validateTelefono(s string) Result {
	phone := strings.NewReplacer(" ", "", "-", "").Replace(s)
	if !telefonoRe.MatchString(phone) {
		return invalid("El teléfono no es válido (ej: 666777888 o +34 666 777 888)")
	}
	return valid(phone)
}

func validateMatricula(s string) Result {
	plate := strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(s))
	if !matriculaRe.MatchString(plate) {
		return invalid("La matrícula no es válida (formato: 1234ABC)")
	}
	return valid(plate)
}

func validateNumeroPositivo(s string) Result {
	// Accept the decimal comma people actually type.
	normalized := strings.ReplaceAll(s, ",", ".")
	n, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return invalid("Debe ser un número (ej: 2.5)")
	}
	if n <= 0 {
		return invalid("El número debe ser mayor que cero")
	}
	return valid(strconv.FormatFloat(n, 'f', -1, 64))
}

func validatePorcentaje(s string) Result {
	normalized := strings.ReplaceAll(s, ",", ".")
	n, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return invalid("Debe ser un número entre 0 y 100")
	}
	if n < 0 || n > 100 {
		return invalid("El porcentaje debe estar entre 0 y 100")
	}
	return valid(strconv.FormatFloat(n, 'f', -1, 64))
}

func validateMetodoPago(s string) Result {
	metodo := strings.ToLower(s)
	switch metodo {
	case "transferencia", "efectivo", "cheque", "tarjeta", "otro":
		return valid(metodo)
	default:
		return invalid("Método no válido. Usa: transferencia, efectivo, cheque, tarjeta u otro")
	}
}

func validateIdentificador(s string) Result {
	if s == "" {
		return invalid("El identificador es requerido")
	}
	if !identRe.MatchString(s) {
		return invalid("El identificador no tiene un formato válido")
	}
	return valid(strings.ToLower(s))
}
