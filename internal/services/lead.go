package services

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"whatrack/internal/models"
)

// findOrCreateLead resolves a lead by (organization, wa_id) or phone match,
// creating it with the given source when absent. The source is written only on
// create; updates go through models.LeadUpdateFields, which has no Source
// field, so no caller can overwrite it later.
//
// wasHistoryLead reports whether the lead already existed with a history_sync
// source before this call mutated anything.
func findOrCreateLead(tx *gorm.DB, organizationID, waID, phone string, source models.LeadSource, update models.LeadUpdateFields) (lead *models.Lead, wasHistoryLead bool, created bool, err error) {
	var existing models.Lead
	err = tx.Where("organization_id = ? AND wa_id = ?", organizationID, waID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) && phone != "" {
		err = tx.Where("organization_id = ? AND phone = ?", organizationID, phone).First(&existing).Error
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		newLead := models.Lead{
			OrganizationID: organizationID,
			WaID:           waID,
			Phone:          phone,
			Name:           update.Name,
			Source:         source,
			IsActive:       true,
			LastSyncedAt:   update.LastSyncedAt,
			LastMessageAt:  update.LastMessageAt,
		}
		if createErr := tx.Create(&newLead).Error; createErr != nil {
			return nil, false, false, createErr
		}
		return &newLead, false, true, nil
	}
	if err != nil {
		return nil, false, false, err
	}

	wasHistoryLead = existing.Source == models.LeadSourceHistorySync

	if err := applyLeadUpdate(tx, &existing, update); err != nil {
		return nil, wasHistoryLead, false, err
	}
	return &existing, wasHistoryLead, false, nil
}

// applyLeadUpdate writes the permitted update columns onto an existing lead.
func applyLeadUpdate(tx *gorm.DB, lead *models.Lead, update models.LeadUpdateFields) error {
	changes := map[string]interface{}{}
	if update.Phone != "" && update.Phone != lead.Phone {
		changes["phone"] = update.Phone
		lead.Phone = update.Phone
	}
	if update.Name != "" && update.Name != lead.Name {
		changes["name"] = update.Name
		lead.Name = update.Name
	}
	if update.LastSyncedAt != nil {
		changes["last_synced_at"] = update.LastSyncedAt
		lead.LastSyncedAt = update.LastSyncedAt
	}
	if update.LastMessageAt != nil {
		changes["last_message_at"] = update.LastMessageAt
		lead.LastMessageAt = update.LastMessageAt
	}
	if update.Reactivate && !lead.IsActive {
		changes["is_active"] = true
		changes["deleted_at"] = nil
		lead.IsActive = true
		lead.DeletedAt = nil
	}
	if len(changes) == 0 {
		return nil
	}
	return tx.Model(lead).Updates(changes).Error
}

// findOrCreateConversation resolves the conversation for (lead, connection),
// recording the provider conversation id when one is supplied.
func findOrCreateConversation(tx *gorm.DB, leadID, connectionID uint, providerConversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := tx.Where("lead_id = ? AND connection_id = ?", leadID, connectionID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		conv = models.Conversation{
			LeadID:                 leadID,
			ConnectionID:           connectionID,
			ProviderConversationID: providerConversationID,
		}
		if createErr := tx.Create(&conv).Error; createErr != nil {
			return nil, createErr
		}
		return &conv, nil
	}
	if err != nil {
		return nil, err
	}

	if providerConversationID != "" && conv.ProviderConversationID == "" {
		if err := tx.Model(&conv).Update("provider_conversation_id", providerConversationID).Error; err != nil {
			return nil, err
		}
		conv.ProviderConversationID = providerConversationID
	}
	return &conv, nil
}

// touchLastWebhookAt stamps the connection with the time of the latest
// processed delivery. Best effort.
func touchLastWebhookAt(db *gorm.DB, connectionID uint, at time.Time) error {
	return db.Model(&models.MetaConnection{}).
		Where("id = ?", connectionID).
		Update("last_webhook_at", at).Error
}
