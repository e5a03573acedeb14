package patterns

// Builtin packs. en and de load synchronously at registry construction;
// the rest load asynchronously via LoadRemaining.

func builtinEN() *Pack {
	return &Pack{
		Language: "en",
		Corrections: []string{
			`(?i)\bthat'?s (not right|wrong|incorrect)\b`,
			`(?i)\bno[,.]? (that is|that's|you're) (wrong|not it)\b`,
			`(?i)\byou (misunderstood|got it wrong|broke)\b`,
			`(?i)\bactually[,]? (it|that) (is|was)\b`,
			`(?i)\bundo (that|this)\b`,
		},
		ShortNegatives: []string{
			`(?i)^\s*(no|nope|nah|wrong)[.!]?\s*$`,
			`(?i)^\s*not (that|this)[.!]?\s*$`,
		},
		Questions: []string{
			`(?i)^(should i|shall i|do you want|would you like|can i)\b`,
			`\?\s*$`,
		},
		Dissatisfaction: []string{
			`(?i)\bthis (is|was) (useless|frustrating|terrible)\b`,
			`(?i)\b(not|isn'?t) (working|helpful)\b`,
			`(?i)\bwhy (doesn'?t|can'?t) (this|it|you)\b`,
			`(?i)\bgive up\b`,
		},
		SatisfactionOverrides: []string{
			`(?i)\b(thanks|thank you|great|perfect|awesome)\b`,
			`(?i)\bthat (worked|fixed it|helps)\b`,
		},
		ResolutionIndicators: []string{
			`(?i)\b(works|working) now\b`,
			`(?i)\b(fixed|solved|resolved)\b`,
		},
		CompletionClaims: []string{
			`(?i)\b(done|completed|finished)[.!]?\b`,
			`(?i)\bi (have|'ve) (fixed|completed|deployed|updated|implemented)\b`,
			`(?i)\beverything (is|looks) (fine|good|ok(ay)?)\b`,
			`(?i)\b(task|job) (is )?complete\b`,
			`(?i)\blooks fine\b`,
		},
		SystemStateClaims: []string{
			`(?i)\bthe (service|server|process|daemon) is (running|up|down|healthy)\b`,
			`(?i)\b(cpu|memory|disk) (usage )?is (at )?\d+\s*%`,
			`(?i)\bport \d+ is (open|closed|listening)\b`,
			`(?i)\bthe (database|cluster|queue) is (online|offline|reachable)\b`,
		},
		OpinionExclusions: []string{
			`(?i)\bi (think|believe|assume|guess)\b`,
			`(?i)\b(probably|likely|perhaps|maybe)\b`,
			`(?i)\bit (seems|appears)\b`,
		},
	}
}

func builtinDE() *Pack {
	return &Pack{
		Language: "de",
		Corrections: []string{
			`(?i)\bdas (ist|war) (falsch|nicht richtig)\b`,
			`(?i)\bnein[,.]? das (stimmt nicht|ist falsch)\b`,
			`(?i)\bdu hast (das|es) (falsch|kaputt gemacht)\b`,
			`(?i)\bmach (das|es) rückgängig\b`,
		},
		ShortNegatives: []string{
			`(?i)^\s*(nein|nö|falsch)[.!]?\s*$`,
			`(?i)^\s*nicht (das|so)[.!]?\s*$`,
		},
		Questions: []string{
			`(?i)^(soll ich|möchtest du|willst du|kann ich)\b`,
			`\?\s*$`,
		},
		Dissatisfaction: []string{
			`(?i)\bdas (ist|war) (nutzlos|frustrierend|furchtbar)\b`,
			`(?i)\bfunktioniert (nicht|immer noch nicht)\b`,
			`(?i)\bwarum (geht|klappt) das nicht\b`,
		},
		SatisfactionOverrides: []string{
			`(?i)\b(danke|super|perfekt|klasse)\b`,
			`(?i)\bdas hat (funktioniert|geholfen)\b`,
		},
		ResolutionIndicators: []string{
			`(?i)\bjetzt (geht|funktioniert) es\b`,
			`(?i)\b(behoben|gelöst|repariert)\b`,
		},
		CompletionClaims: []string{
			`(?i)\b(erledigt|fertig|abgeschlossen)[.!]?\b`,
			`(?i)\bich habe (es|das) (behoben|implementiert|aktualisiert|deployt)\b`,
			`(?i)\balles (sieht gut aus|in ordnung)\b`,
		},
		SystemStateClaims: []string{
			`(?i)\bder (dienst|server|prozess) (läuft|ist down|ist erreichbar)\b`,
			`(?i)\b(cpu|speicher|festplatte) (liegt bei|ist bei) \d+\s*%`,
		},
		OpinionExclusions: []string{
			`(?i)\bich (denke|glaube|vermute)\b`,
			`(?i)\b(wahrscheinlich|vermutlich|vielleicht)\b`,
		},
	}
}

func builtinFR() *Pack {
	return &Pack{
		Language: "fr",
		Corrections: []string{
			`(?i)\bc'?est (faux|incorrect|pas ça)\b`,
			`(?i)\bnon[,.]? ce n'?est pas (ça|correct)\b`,
			`(?i)\btu (t'?es trompé|as cassé)\b`,
		},
		ShortNegatives: []string{
			`(?i)^\s*non[.!]?\s*$`,
			`(?i)^\s*pas (ça|comme ça)[.!]?\s*$`,
		},
		Questions: []string{
			`(?i)^(dois-je|veux-tu|puis-je)\b`,
			`\?\s*$`,
		},
		Dissatisfaction: []string{
			`(?i)\bc'?est (inutile|frustrant|nul)\b`,
			`(?i)\bça ne (marche|fonctionne) (pas|toujours pas)\b`,
		},
		SatisfactionOverrides: []string{
			`(?i)\b(merci|parfait|super|génial)\b`,
		},
		ResolutionIndicators: []string{
			`(?i)\bça (marche|fonctionne) maintenant\b`,
			`(?i)\b(corrigé|résolu|réparé)\b`,
		},
		CompletionClaims: []string{
			`(?i)\b(terminé|fini|fait)[.!]?\b`,
			`(?i)\bj'?ai (corrigé|implémenté|déployé|mis à jour)\b`,
			`(?i)\btout (semble|a l'?air) (bon|correct)\b`,
		},
		SystemStateClaims: []string{
			`(?i)\ble (service|serveur|processus) (tourne|est en marche|est arrêté)\b`,
			`(?i)\b(cpu|mémoire|disque) (est à|atteint) \d+\s*%`,
		},
		OpinionExclusions: []string{
			`(?i)\bje (pense|crois|suppose)\b`,
			`(?i)\b(probablement|peut-être|sans doute)\b`,
		},
	}
}

func builtinES() *Pack {
	return &Pack{
		Language: "es",
		Corrections: []string{
			`(?i)\beso (es|está) (mal|incorrecto)\b`,
			`(?i)\bno[,.]? (eso no es|te equivocaste)\b`,
			`(?i)\blo (has roto|hiciste mal)\b`,
		},
		ShortNegatives: []string{
			`(?i)^\s*no[.!]?\s*$`,
			`(?i)^\s*así no[.!]?\s*$`,
		},
		Questions: []string{
			`(?i)^(debo|quieres que|puedo)\b`,
			`\?\s*$`,
		},
		Dissatisfaction: []string{
			`(?i)\besto (es|fue) (inútil|frustrante|terrible)\b`,
			`(?i)\bno (funciona|sirve)\b`,
		},
		SatisfactionOverrides: []string{
			`(?i)\b(gracias|perfecto|genial|excelente)\b`,
		},
		ResolutionIndicators: []string{
			`(?i)\bahora (funciona|sí va)\b`,
			`(?i)\b(arreglado|resuelto|solucionado)\b`,
		},
		CompletionClaims: []string{
			`(?i)\b(listo|hecho|terminado|completado)[.!]?\b`,
			`(?i)\bhe (arreglado|implementado|desplegado|actualizado)\b`,
			`(?i)\btodo (se ve|está) (bien|correcto)\b`,
		},
		SystemStateClaims: []string{
			`(?i)\bel (servicio|servidor|proceso) está (corriendo|caído|activo)\b`,
			`(?i)\b(cpu|memoria|disco) está (al|en) \d+\s*%`,
		},
		OpinionExclusions: []string{
			`(?i)\b(creo|pienso|supongo) que\b`,
			`(?i)\b(probablemente|quizás|tal vez)\b`,
		},
	}
}

func builtinPT() *Pack {
	return &Pack{
		Language: "pt",
		Corrections: []string{
			`(?i)\bisso (está|é) (errado|incorreto)\b`,
			`(?i)\bnão[,.]? (não é isso|você errou)\b`,
			`(?i)\bvocê (quebrou|fez errado)\b`,
		},
		ShortNegatives: []string{
			`(?i)^\s*não[.!]?\s*$`,
			`(?i)^\s*assim não[.!]?\s*$`,
		},
		Questions: []string{
			`(?i)^(devo|você quer|posso)\b`,
			`\?\s*$`,
		},
		Dissatisfaction: []string{
			`(?i)\bisso (é|foi) (inútil|frustrante|péssimo)\b`,
			`(?i)\bnão (funciona|está funcionando)\b`,
		},
		SatisfactionOverrides: []string{
			`(?i)\b(obrigado|obrigada|perfeito|ótimo)\b`,
		},
		ResolutionIndicators: []string{
			`(?i)\bagora (funciona|está funcionando)\b`,
			`(?i)\b(consertado|resolvido|corrigido)\b`,
		},
		CompletionClaims: []string{
			`(?i)\b(pronto|feito|concluído|terminado)[.!]?\b`,
			`(?i)\beu (consertei|implementei|atualizei)\b`,
			`(?i)\btudo (parece|está) (bem|certo)\b`,
		},
		SystemStateClaims: []string{
			`(?i)\bo (serviço|servidor|processo) está (rodando|fora do ar|ativo)\b`,
			`(?i)\b(cpu|memória|disco) está (em|a) \d+\s*%`,
		},
		OpinionExclusions: []string{
			`(?i)\b(acho|acredito|suponho) que\b`,
			`(?i)\b(provavelmente|talvez)\b`,
		},
	}
}

func builtinIT() *Pack {
	return &Pack{
		Language: "it",
		Corrections: []string{
			`(?i)\bquesto è (sbagliato|errato)\b`,
			`(?i)\bno[,.]? non è (così|corretto)\b`,
			`(?i)\bhai (rotto|sbagliato)\b`,
		},
		ShortNegatives: []string{
			`(?i)^\s*no[.!]?\s*$`,
			`(?i)^\s*non così[.!]?\s*$`,
		},
		Questions: []string{
			`(?i)^(devo|vuoi che|posso)\b`,
			`\?\s*$`,
		},
		Dissatisfaction: []string{
			`(?i)\bquesto è (inutile|frustrante|terribile)\b`,
			`(?i)\bnon funziona\b`,
		},
		SatisfactionOverrides: []string{
			`(?i)\b(grazie|perfetto|ottimo|fantastico)\b`,
		},
		ResolutionIndicators: []string{
			`(?i)\bora funziona\b`,
			`(?i)\b(sistemato|risolto|corretto)\b`,
		},
		CompletionClaims: []string{
			`(?i)\b(fatto|finito|completato)[.!]?\b`,
			`(?i)\bho (sistemato|implementato|aggiornato)\b`,
			`(?i)\btutto (sembra|è) (a posto|ok)\b`,
		},
		SystemStateClaims: []string{
			`(?i)\bil (servizio|server|processo) è (attivo|in esecuzione|fermo)\b`,
			`(?i)\b(cpu|memoria|disco) è al \d+\s*%`,
		},
		OpinionExclusions: []string{
			`(?i)\b(penso|credo|suppongo) che\b`,
			`(?i)\b(probabilmente|forse)\b`,
		},
	}
}

func builtinZH() *Pack {
	return &Pack{
		Language: "zh",
		Corrections: []string{
			`(这|那)(不对|是错的|不正确)`,
			`你(搞错了|弄坏了|理解错了)`,
			`不是(这样|这个)`,
		},
		ShortNegatives: []string{
			`^\s*(不|不对|不是|错了)[。！!]?\s*$`,
			`^\s*不行[。！!]?\s*$`,
		},
		Questions: []string{
			`^(要不要|需要我|我可以)`,
			`[?？]\s*$`,
			`吗[。？?]?\s*$`,
		},
		Dissatisfaction: []string{
			`(太|真)(烦|糟糕|没用)`,
			`(还是|根本)(不行|不能用|没用)`,
			`为什么(不行|不能)`,
		},
		SatisfactionOverrides: []string{
			`(谢谢|太好了|完美|很好)`,
			`(可以了|好使了)`,
		},
		ResolutionIndicators: []string{
			`现在(可以|好)了`,
			`(修好了|解决了)`,
		},
		CompletionClaims: []string{
			`(完成|搞定|做完)了`,
			`我(已经)?(修复|部署|更新|实现)了`,
			`一切(正常|没问题)`,
		},
		SystemStateClaims: []string{
			`(服务|服务器|进程)(正在运行|已停止|正常)`,
			`(CPU|内存|磁盘)(使用率)?(达到|是)\d+\s*%`,
		},
		OpinionExclusions: []string{
			`我(觉得|认为|猜)`,
			`(可能|大概|也许)`,
		},
	}
}

func builtinJA() *Pack {
	return &Pack{
		Language: "ja",
		Corrections: []string{
			`(それ|これ)は(違い|間違って)います?`,
			`(違う|間違い)です`,
			`壊れて(しまい)?ました`,
		},
		ShortNegatives: []string{
			`^\s*(いいえ|違う|違います)[。！!]?\s*$`,
			`^\s*だめ(です)?[。！!]?\s*$`,
		},
		Questions: []string{
			`^(〜?しましょうか|よろしいですか|してもいいですか)`,
			`[?？]\s*$`,
			`か[。？?]\s*$`,
		},
		Dissatisfaction: []string{
			`(役に立たない|イライラする|ひどい)`,
			`(まだ)?(動かない|動きません)`,
			`なぜ(できない|動かない)`,
		},
		SatisfactionOverrides: []string{
			`(ありがとう|完璧|素晴らしい|助かり)`,
			`(直りました|うまくいきました)`,
		},
		ResolutionIndicators: []string{
			`(今は|もう)(動き|使え)ます`,
			`(解決|修正)(しました|されました)`,
		},
		CompletionClaims: []string{
			`(完了|終了|終わり)しました`,
			`(修正|実装|更新|デプロイ)しました`,
			`(すべて|全て)(正常|問題ありません)`,
		},
		SystemStateClaims: []string{
			`(サービス|サーバー|プロセス)は(稼働|停止)(中|しています)`,
			`(CPU|メモリ|ディスク)(使用率)?は\d+\s*[%％]`,
		},
		OpinionExclusions: []string{
			`(と思います|と思う|でしょう)`,
			`(おそらく|たぶん|かもしれません)`,
		},
	}
}

func builtinKO() *Pack {
	return &Pack{
		Language: "ko",
		Corrections: []string{
			`(그게|그건|이건) (아니|틀렸)`,
			`잘못(됐|하셨)`,
			`망가(뜨렸|졌)`,
		},
		ShortNegatives: []string{
			`^\s*(아니요?|아냐|틀렸어)[.!]?\s*$`,
			`^\s*그거 아니[.!]?\s*$`,
		},
		Questions: []string{
			`^(할까요|해도 될까요|원하시나요)`,
			`[?？]\s*$`,
			`(나요|까요)[.?？]?\s*$`,
		},
		Dissatisfaction: []string{
			`(쓸모없|답답|끔찍)`,
			`(아직도 )?(안 ?돼|작동하지 않)`,
			`왜 (안 ?되|못 하)`,
		},
		SatisfactionOverrides: []string{
			`(감사합니다|고마워|완벽|좋아요)`,
			`(됐어요|해결됐)`,
		},
		ResolutionIndicators: []string{
			`이제 (되|작동하)`,
			`(고쳐졌|해결됐|수정됐)`,
		},
		CompletionClaims: []string{
			`(완료|끝냈|마쳤)(습니다|어요)`,
			`(수정|구현|배포|업데이트)했(습니다|어요)`,
			`(모두|전부) (정상|문제없)`,
		},
		SystemStateClaims: []string{
			`(서비스|서버|프로세스)(가|는) (실행 중|중지됨|정상)`,
			`(CPU|메모리|디스크)( 사용량)?(이|은|는) \d+\s*%`,
		},
		OpinionExclusions: []string{
			`(것 같|생각(합니다|해요))`,
			`(아마|어쩌면)`,
		},
	}
}

func builtinRU() *Pack {
	return &Pack{
		Language: "ru",
		Corrections: []string{
			`(?i)\bэто (неправильно|не так|неверно)\b`,
			`(?i)\bнет[,.]? (это не то|ты ошибся)\b`,
			`(?i)\bты (сломал|всё испортил)\b`,
		},
		ShortNegatives: []string{
			`(?i)^\s*(нет|неверно|не так)[.!]?\s*$`,
			`(?i)^\s*не то[.!]?\s*$`,
		},
		Questions: []string{
			`(?i)^(мне|можно|хочешь)\b`,
			`\?\s*$`,
		},
		Dissatisfaction: []string{
			`(?i)\bэто (бесполезно|раздражает|ужасно)\b`,
			`(?i)\b(всё ещё )?не работает\b`,
			`(?i)\bпочему не (работает|получается)\b`,
		},
		SatisfactionOverrides: []string{
			`(?i)\b(спасибо|отлично|идеально|супер)\b`,
		},
		ResolutionIndicators: []string{
			`(?i)\bтеперь (работает|всё хорошо)\b`,
			`(?i)\b(исправлено|решено|починено)\b`,
		},
		CompletionClaims: []string{
			`(?i)\b(готово|сделано|завершено)[.!]?\b`,
			`(?i)\bя (исправил|реализовал|обновил|задеплоил)\b`,
			`(?i)\bвсё (выглядит )?(хорошо|в порядке)\b`,
		},
		SystemStateClaims: []string{
			`(?i)\b(сервис|сервер|процесс) (работает|запущен|остановлен)\b`,
			`(?i)\b(процессор|память|диск) (загружен[а]? на|на) \d+\s*%`,
		},
		OpinionExclusions: []string{
			`(?i)\bя (думаю|полагаю|предполагаю)\b`,
			`(?i)\b(наверное|возможно|вероятно)\b`,
		},
	}
}

// staticBuiltins are loaded synchronously at construction.
func staticBuiltins() []*Pack { return []*Pack{builtinEN(), builtinDE()} }

// deferredBuiltins are loaded by LoadRemaining.
func deferredBuiltins() []*Pack {
	return []*Pack{
		builtinFR(), builtinES(), builtinPT(), builtinIT(),
		builtinZH(), builtinJA(), builtinKO(), builtinRU(),
	}
}

// universal patterns are merged into every view unconditionally.
var universalQuestions = []string{`[?？]\s*$`}
var universalDissatisfaction = []string{`(😡|🤬|👎|😤)`}
var universalSatisfaction = []string{`(👍|🎉|❤️|🙏)`}
