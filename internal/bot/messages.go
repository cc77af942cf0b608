package bot

import (
	"fmt"
	"strings"

	"github.com/hsitotv/relaybot/internal/config"
)

const (
	msgChannelNotRecognized = "❌ Canal no reconocido\n\n" +
		"🎬 Canales válidos:\n" +
		"• Canal de PELÍCULAS\n" +
		"• Canal de SERIES\n\n" +
		"💡 Asegúrate de enviar enlaces de estos canales."

	msgLinkNotRecognized = "❌ Enlace no reconocido\n\n" +
		"✅ Formato válido:\n" +
		"• Enlace del canal: t.me/c/.../123\n" +
		"• SERIE COMPLETA: Envía varios enlaces del canal juntos en un solo mensaje\n\n" +
		"📺 Ejemplo para series:\n" +
		"Pega múltiples enlaces (uno por línea) para enviar una serie completa"

	msgBroadcastUsage    = "❌ Uso: /broadcast <tu mensaje aquí>"
	msgBroadcastStarting = "✅ Iniciando envío masivo..."
	msgAdminOnly         = "⛔ Este comando es solo para administradores."
)

func welcomeText(username string, downloads int, quotaLabel string) string {
	var b strings.Builder
	b.WriteString("👋 ¡Bienvenido a nuestro bot!\n\n")
	if username != "" {
		b.WriteString("@" + username + "\n\n")
	}
	b.WriteString("⬇️ Aquí podrás ver tu contenido favorito como pelis y series\n\n")
	b.WriteString("✨ ¿Cómo funciona?\n")
	b.WriteString("Pega el enlace del canal y envíanoslo\n\n")
	fmt.Fprintf(&b, "📊 Tus descargas: %d\n", downloads)
	fmt.Fprintf(&b, "🎟️ %s", quotaLabel)
	return b.String()
}

func limitReachedText(freeLimit int, channels []config.RequiredChannel) string {
	var b strings.Builder
	b.WriteString("🔒 Límite alcanzado\n\n")
	fmt.Fprintf(&b, "Ya usaste tus %d descargas gratis.", freeLimit)
	if len(channels) == 0 {
		return b.String()
	}
	b.WriteString("\n\nÚnete a nuestros canales para seguir descargando sin límite:\n")
	for _, ch := range channels {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			name = fmt.Sprintf("Canal %d", ch.ID)
		}
		if ch.InviteURL != "" {
			fmt.Fprintf(&b, "• %s: %s\n", name, ch.InviteURL)
		} else {
			fmt.Fprintf(&b, "• %s\n", name)
		}
	}
	b.WriteString("\nCuando te unas, vuelve a enviar el enlace.")
	return b.String()
}

type statsSnapshot struct {
	users         int
	downloads     int
	verified      int
	moviesChannel int64
	seriesChannel int64
	freeLimit     int
}

func statsText(s statsSnapshot) string {
	return fmt.Sprintf("📊 Estadísticas del bot:\n"+
		"👥 Usuarios registrados: %d\n"+
		"📥 Total descargas: %d\n"+
		"✅ Usuarios verificados: %d\n"+
		"🎬 Canal películas: %d\n"+
		"📺 Canal series: %d\n"+
		"🎁 Descargas gratis por usuario: %d",
		s.users, s.downloads, s.verified, s.moviesChannel, s.seriesChannel, s.freeLimit)
}

func chatInfoText(chatID int64, chatType, title string) string {
	if title == "" {
		title = "Sin título"
	}
	return fmt.Sprintf("ℹ️ Información del chat actual:\n"+
		"🆔 ID: %d\n"+
		"📱 Tipo: %s\n"+
		"📝 Título: %s", chatID, chatType, title)
}

func broadcastText(message string) string {
	return "🚨 Mensaje del administrador:\n\n" + message
}

func broadcastSummaryText(sent, failed int) string {
	return fmt.Sprintf("📤 Envío completado:\n✅ Enviados: %d\n❌ Errores: %d", sent, failed)
}
