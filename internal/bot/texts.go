package bot

const (
	textStart = "Привет! Я бот, который помогает тебе отслеживать свою жизнь.\n\n" +
		"🧭 Используй /help, чтобы посмотреть все команды."

	textHelp = "Вот что я умею:\n\n" +
		"📌 Основное:\n" +
		"• /add — добавить привычку (полезную или вредную)\n" +
		"• /day — заполнить итоги дня (вода, сигареты, сон, настроение...)\n" +
		"• /report — показать текущие привычки\n" +
		"• /export — экспорт в Excel\n" +
		"• /deletehabit <название> — удалить привычку\n" +
		"• /cancel — отменить текущий ввод\n\n" +
		"📅 Логи:\n" +
		"• /history — последние 7 записей\n" +
		"• /week — отчёт за неделю\n" +
		"• /month — отчёт за месяц\n\n" +
		"💡 Кастом:\n" +
		"• /custom — добавить своё поле в дневник\n" +
		"• /delcustom <название> — удалить кастомное поле\n\n" +
		"🍎 Питание:\n" +
		"• /food — записать приём пищи\n" +
		"• /today — питание за сегодня\n" +
		"• /products — список продуктов\n" +
		"• /editproduct название;ккал;б;ж;у;соль;сахар — задать продукт\n" +
		"• /delproduct <название> — удалить продукт\n\n" +
		"💰 Финансы:\n" +
		"• /finance — учёт расходов и доходов\n" +
		"• /categories — категории финансов\n" +
		"• /balance — баланс за неделю\n\n" +
		"🔔 Напоминания:\n" +
		"• /remind HH:MM — установить напоминание\n" +
		"• /remind_off — отключить напоминание"

	textUnknownInput   = "Не понимаю 🤔 Используй /help, чтобы посмотреть команды."
	textUnknownCommand = "Неизвестная команда. Используй /help."
	textFormInProgress = "Сначала закончи текущий ввод или отправь /cancel.\n\n"
	textStorageFailure = "⚠️ Не удалось сохранить. Отправь ответ ещё раз."
	textCancelIdle     = "❌ Сейчас нет активного ввода."
	textCancelActive   = "🚫 Ввод отменён. Ты вышел из режима ввода."
	textFormFailed     = "⚠️ Не удалось продолжить ввод, он сброшен. Начни заново."
	textFormExpired    = "⌛ Ввод отменён из-за долгого бездействия. Начни заново, когда будешь готов."

	textDayLogSaved = "✅ Итоги дня сохранены! Посмотреть: /history"

	textHabitNameNeeded   = "Укажи название: /deletehabit <название>"
	textHabitDeleted      = "❌ Привычка '%s' удалена."
	textHabitNotFound     = "Привычка '%s' не найдена."
	textCustomNameNeeded  = "Укажи название: /delcustom <название>"
	textCustomDeleted     = "❌ Поле '%s' удалено."
	textCustomNotFound    = "Поле '%s' не найдено."
	textProductNameNeeded = "Укажи название: /delproduct <название>"
	textProductDeleted    = "❌ Продукт '%s' удалён."
	textProductNotFound   = "Продукт '%s' не найден."
	textProductFormat     = "Ошибка! Формат: /editproduct название;калории;белки;жиры;углеводы;соль;сахар"
	textProductAdded      = "✅ Продукт '%s' добавлен!"
	textProductUpdated    = "✅ Продукт '%s' обновлён!"
	textNoHabits          = "У тебя нет привычек для удаления."
	textNoCustomFields    = "У тебя нет кастомных полей."
	textAvailable         = "\nДоступные: %s"

	textRemindFormat   = "Неверный формат. Введи время в виде /remind 09:00"
	textRemindSet      = "🔔 Напоминание установлено на %s"
	textRemindOff      = "🔕 Напоминание отключено"
	textRemindNone     = "Напоминание не было установлено."
	textRemindDisabled = "Напоминания недоступны."

	textExportLink = "📊 Выгрузка в Excel: %s"
	textExportAPI  = "📊 Выгрузка доступна через HTTP API: GET /users/%s/export.xlsx"
)
