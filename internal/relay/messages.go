package relay

import (
	"fmt"

	"github.com/hsitotv/relaybot/internal/logger"
)

const errorDetailLimit = 200

const (
	msgVerifying       = "🔄 Verificando mensaje en el canal..."
	msgCopying         = "🔄 Copiando video del canal..."
	msgTryingForward   = "🔄 Intentando reenvío alternativo..."
	msgForwarded       = "✅ Video reenviado del canal (método alternativo)."
	msgChannelNoAccess = "❌ No puedo acceder al canal. Verifica que el bot sea administrador del canal con todos los permisos necesarios."
)

func processingText(quotaLabel string) string {
	if quotaLabel == "" {
		return "⚡ Procesando tu solicitud..."
	}
	return fmt.Sprintf("⚡ Procesando tu solicitud... (%s)", quotaLabel)
}

func notFoundText(messageID int) string {
	return fmt.Sprintf("❌ Mensaje #%d no existe\n\n"+
		"🔍 Qué verificar:\n"+
		"1. ¿El mensaje fue eliminado del canal?\n"+
		"2. ¿El enlace es de otro canal diferente?\n"+
		"3. ¿El número del mensaje es correcto?\n\n"+
		"💡 Envía un video nuevo al canal y usa su enlace.", messageID)
}

func forbiddenText(channelID int64, messageID int) string {
	return fmt.Sprintf("❌ Bot sin acceso al canal\n\n"+
		"Canal ID: %d\n"+
		"Mensaje ID: %d\n\n"+
		"🔧 Solución:\n"+
		"1. Añade el bot como admin del canal\n"+
		"2. Dale permisos completos\n"+
		"3. Verifica que el ID del canal sea correcto", channelID, messageID)
}

func technicalErrorText(err error) string {
	detail := ""
	if err != nil {
		detail = logger.Truncate(err.Error(), errorDetailLimit)
	}
	return fmt.Sprintf("❌ Error técnico\n%s...\n\n🔄 Intenta con un mensaje más reciente del canal.", detail)
}

// remediationText picks the user-facing message for a final relay failure.
func remediationText(err error, channelID int64, messageID int) string {
	switch KindOf(err) {
	case KindNotFound:
		return notFoundText(messageID)
	case KindForbidden:
		return forbiddenText(channelID, messageID)
	default:
		return technicalErrorText(err)
	}
}

func batchStartText(label string, total int) string {
	return fmt.Sprintf("%s detectada: %d episodios\n\n🔄 Comenzando envío...", label, total)
}

func batchCaption(label string, index, total int) string {
	return fmt.Sprintf("%s - Episodio %d/%d", label, index, total)
}

func batchProgressText(label string, index, total, sent, failed int) string {
	return fmt.Sprintf("%s en progreso\n\n"+
		"📊 Episodio: %d/%d\n"+
		"✅ Enviados: %d\n"+
		"❌ Errores: %d", label, index, total, sent, failed)
}

func batchSummaryText(label string, total, sent, failed int) string {
	return fmt.Sprintf("🎉 ¡%s completada!\n\n"+
		"📺 Total episodios: %d\n"+
		"✅ Enviados exitosamente: %d\n"+
		"❌ Errores: %d\n\n"+
		"🎬 ¡Disfruta tu contenido!", label, total, sent, failed)
}
