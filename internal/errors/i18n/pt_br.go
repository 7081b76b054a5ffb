package i18n

var ptBRCatalog = &Catalog{
	messages: map[Code]string{
		CodeUnknown: "Algo deu errado",

		// Handshake errors
		CodeHandshakeFailed:       "Falha na negociação da conexão",
		CodeHandshakeUnauthorized: "Autenticação é necessária para conectar",

		// Packet errors
		CodeDecodeFailed:       "O pacote não pôde ser decodificado",
		CodeAttachmentMismatch: "Esperados {{.Expected}} anexos binários, recebidos {{.Got}}",
		CodePayloadTooLarge:    "O conteúdo excede o tamanho permitido",
		CodeUnsupportedPacket:  "Tipo de pacote não suportado {{.Type}}",

		// Session errors
		CodeHeartbeatTimeout: "Conexão encerrada após perder sinais de vida",
		CodeSlowConsumer:     "Conexão encerrada porque as mensagens não estavam sendo consumidas",
		CodeSessionClosed:    "A sessão está encerrada",
		CodeSessionNotFound:  "Sessão desconhecida",

		// Acknowledgment errors
		CodeAckTimeout: "O prazo de confirmação expirou",

		// Room and namespace errors
		CodeRoomNameEmpty:    "O nome da sala não pode ser vazio",
		CodeNamespaceUnknown: "Namespace desconhecido {{.Namespace}}",

		// Broadcast adapter errors
		CodePublishFailure: "A entrega entre servidores está degradada",
		CodeBusUnavailable: "O backend de difusão está indisponível",
		CodeChannelInvalid: "Nome de canal de difusão inválido",

		// Rate limiting
		CodeRateLimited: "Pacotes em excesso, reduza o ritmo",

		// Storage errors
		CodeNotFound: "Não encontrado",
	},
}
